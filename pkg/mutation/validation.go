package mutation

import (
	"unicode/utf8"

	"k8s.io/apimachinery/pkg/util/validation/field"
)

// MaxUIDLength is the longest uid, in characters, accepted on a Request.
const MaxUIDLength = 100

// Validate checks the fields the boundary must reject before the engine runs.
func (r *Request) Validate() field.ErrorList {
	var allErrs field.ErrorList

	uidPath := field.NewPath("uid")
	switch n := utf8.RuneCountInString(string(r.UID)); {
	case n == 0:
		allErrs = append(allErrs, field.Required(uidPath, "uid must not be empty"))
	case n > MaxUIDLength:
		allErrs = append(allErrs, field.TooLong(uidPath, r.UID, MaxUIDLength))
	}

	if r.Object == nil {
		allErrs = append(allErrs, field.Required(field.NewPath("obj"), ""))
	}
	if r.Metadata == nil {
		allErrs = append(allErrs, field.Required(field.NewPath("metadata"), ""))
	}

	return allErrs
}
