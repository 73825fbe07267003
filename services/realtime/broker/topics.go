// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package broker

import "strings"

// Topic namespaces. A subscription addresses exactly one topic; jobs
// publish to their job topic and, when owned, to the owner's user topic.
// System broadcasts go to the global topic.
const (
	jobTopicPrefix  = "job:"
	userTopicPrefix = "user:"
	GlobalTopic     = "global"
)

// JobTopic returns the topic carrying one job's progress events.
func JobTopic(jobID string) string {
	return jobTopicPrefix + jobID
}

// UserTopic returns the topic carrying all of one user's events.
func UserTopic(userID string) string {
	return userTopicPrefix + userID
}

// jobIDFromTopic extracts the job ID from a job topic, or "" if the topic
// is not a job topic.
func jobIDFromTopic(topic string) string {
	if strings.HasPrefix(topic, jobTopicPrefix) {
		return topic[len(jobTopicPrefix):]
	}
	return ""
}
