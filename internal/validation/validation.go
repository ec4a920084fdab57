// Package validation checks typed request structs before they reach the
// gateway and reports one message per failing field.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"snapgram/internal/models"

	"github.com/go-playground/validator/v10"
)

// Errors maps a field name to its failure message.
type Errors map[string]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+e[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Field returns the message for a field, or "".
func (e Errors) Field(name string) string { return e[name] }

var messages = map[string]string{
	"name.min":         "Name must be at least 2 characters.",
	"username.min":     "Username must be at least 2 characters.",
	"email.required":   "Invalid email address.",
	"email.email":      "Invalid email address.",
	"password.min":     "Password must be at least 8 characters.",
	"caption.min":      "Caption must be at least 5 characters.",
	"caption.max":      "Caption must be at most 2200 characters.",
	"location.min":     "Location is required.",
	"location.max":     "Location must be at most 100 characters.",
	"bio.max":          "Bio must be at most 2200 characters.",
	"user_id.required": "User id is required.",
	"post_id.required": "Post id is required.",
}

const (
	msgFileRequired  = "Please upload an image."
	msgImageRequired = "Existing image reference is required."
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func check(req any) Errors {
	errs := Errors{}
	err := validate.Struct(req)
	if err == nil {
		return errs
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs["_"] = err.Error()
		return errs
	}
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := errs[field]; seen {
			continue
		}
		msg, ok := messages[field+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("%s failed %s %s", field, fe.Tag(), fe.Param())
		}
		errs[field] = msg
	}
	return errs
}

func result(errs Errors) error {
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func NewUser(req models.NewUser) error { return result(check(req)) }

func SignIn(req models.SignInRequest) error { return result(check(req)) }

func NewPost(req models.NewPost) error {
	errs := check(req)
	if req.File.Empty() {
		errs["file"] = msgFileRequired
	}
	return result(errs)
}

func UpdatePost(req models.UpdatePost) error {
	errs := check(req)
	if req.Image.ID == "" || req.Image.URL == "" {
		errs["image"] = msgImageRequired
	}
	return result(errs)
}

func UpdateUser(req models.UpdateUser) error { return result(check(req)) }

// ParseTags turns "a, b,c" into ["a" "b" "c"]. All whitespace is removed, not
// only at the edges, and empty segments are dropped.
func ParseTags(raw string) []string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	tags := []string{}
	for _, t := range strings.Split(stripped, ",") {
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
