package imageupload

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SampleResourceID is the fixed public id used by FixedResourceID by default.
const SampleResourceID = "sample_image"

// ResourceIDPolicy derives the public id an upload is stored under.
type ResourceIDPolicy interface {
	ResourceID(f File, issuedAt time.Time) string
}

// ResourceIDFunc adapts a function to a ResourceIDPolicy.
type ResourceIDFunc func(f File, issuedAt time.Time) string

func (fn ResourceIDFunc) ResourceID(f File, issuedAt time.Time) string {
	return fn(f, issuedAt)
}

// FixedResourceID stores every upload under the same id. A new upload
// silently replaces the previous asset with that id.
func FixedResourceID(id string) ResourceIDPolicy {
	if id == "" {
		id = SampleResourceID
	}
	return ResourceIDFunc(func(File, time.Time) string { return id })
}

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// FilenameResourceID derives a unique id per upload from the file's base
// name and the issue timestamp, e.g. "holiday_photo_1700000000".
func FilenameResourceID() ResourceIDPolicy {
	return ResourceIDFunc(func(f File, issuedAt time.Time) string {
		base := strings.TrimSuffix(filepath.Base(f.Name), filepath.Ext(f.Name))
		base = strings.Trim(unsafeIDChars.ReplaceAllString(base, "_"), "_")
		if base == "" || base == "." {
			base = "image"
		}
		return base + "_" + strconv.FormatInt(issuedAt.Unix(), 10)
	})
}

// ParseResourceIDPolicy maps a configuration value to a policy: "filename"
// (default) or "fixed", optionally "fixed:<id>".
func ParseResourceIDPolicy(s string) (ResourceIDPolicy, bool) {
	switch {
	case s == "" || s == "filename":
		return FilenameResourceID(), true
	case s == "fixed":
		return FixedResourceID(SampleResourceID), true
	case strings.HasPrefix(s, "fixed:"):
		return FixedResourceID(strings.TrimPrefix(s, "fixed:")), true
	}
	return nil, false
}
