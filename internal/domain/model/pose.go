// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// PoseClass is the index of a pose class produced by the classifier.
type PoseClass uint32

// Pose classes in classifier index order.
const (
	SittingDown PoseClass = iota
	GettingUp
	Sitting
	Standing
	Walking
	Jumping
)

// NumPoseClasses is the number of known pose classes.
const NumPoseClasses = 6

// UnknownPose is reported for class indices outside the enumeration.
const UnknownPose = "unknown"

var poseNames = [NumPoseClasses]string{ //nolint:gochecknoglobals // immutable lookup table
	"sitting_down",
	"getting_up",
	"sitting",
	"standing",
	"walking",
	"jumping",
}

// String returns the snake_case class name, or "unknown" for out-of-range indices.
func (p PoseClass) String() string {
	if int(p) < NumPoseClasses {
		return poseNames[p]
	}
	return UnknownPose
}

// Known reports whether p is one of the enumerated classes.
func (p PoseClass) Known() bool { return int(p) < NumPoseClasses }

// Classes lists the enumerated pose classes in index order.
func Classes() []PoseClass {
	out := make([]PoseClass, NumPoseClasses)
	for i := range out {
		out[i] = PoseClass(i)
	}
	return out
}

// ParseClass accepts a class name (case-insensitive, '-' or '_') or a decimal index.
// Indices outside the enumeration are accepted so cooldowns can be set for them.
func ParseClass(s string) (PoseClass, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, n := range poseNames {
		if n == name {
			return PoseClass(i), nil
		}
	}
	idx, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown pose class %q", s)
	}
	return PoseClass(idx), nil
}

// MaxJoints is the number of joints in each skeleton.
const MaxJoints = 34

// JointNames holds the skeleton joint names in index order.
var JointNames = [MaxJoints]string{ //nolint:gochecknoglobals // immutable lookup table
	"pelvis", "left_hip", "right_hip", "torso", "left_knee", "right_knee",
	"neck", "left_ankle", "right_ankle", "left_big_toe", "right_big_toe",
	"left_small_toe", "right_small_toe", "left_heel", "right_heel", "nose",
	"left_eye", "right_eye", "left_ear", "right_ear", "left_shoulder",
	"right_shoulder", "left_elbow", "right_elbow", "left_wrist", "right_wrist",
	"left_pinky_knuckle", "right_pinky_knuckle", "left_middle_tip",
	"right_middle_tip", "left_thumb_tip", "right_thumb_tip", "left_index_tip",
	"right_index_tip",
}
