package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	maxJSONBytes    = 1 << 20
	maxWebhookBytes = 64 << 10
)

var (
	errInvalidJSON = errors.New("invalid JSON body")

	requestValidator = newRequestValidator()
)

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a JSON object into dst, rejecting unknown fields. With
// optional set an empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return errInvalidJSON
	}
	return nil
}

// checkRequest runs the struct tags of req and reports the first failure in
// client terms.
func checkRequest(req any) error {
	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
	Username string `json:"username" validate:"required"`
}

func (r registerRequest) validate() error { return checkRequest(r) }

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (r loginRequest) validate() error { return checkRequest(r) }

type createChatRequest struct {
	Category string `json:"category" validate:"max=32"`
}

func (r createChatRequest) validate() error { return checkRequest(r) }

type updateChatRequest struct {
	Title    *string `json:"title" validate:"omitnil,max=500"`
	Category *string `json:"category" validate:"omitnil,max=32"`
}

func (r updateChatRequest) validate() error {
	if r.Title == nil && r.Category == nil {
		return errors.New("title or category is required")
	}
	return checkRequest(r)
}

type sendMessageRequest struct {
	Content  string `json:"content" validate:"required"`
	Category string `json:"category" validate:"max=32"`
}

func (r sendMessageRequest) validate() error { return checkRequest(r) }

type adminUserUpdateRequest struct {
	Role             *string `json:"role"`
	SubscriptionTier *string `json:"subscriptionTier"`
}

func (r adminUserUpdateRequest) validate() error {
	if r.Role == nil && r.SubscriptionTier == nil {
		return errors.New("role or subscriptionTier is required")
	}
	return nil
}

type subscriptionRequest struct {
	Plan string `json:"plan" validate:"required"`
}

func (r subscriptionRequest) validate() error { return checkRequest(r) }

type messageResponse struct {
	Message string `json:"message"`
}
