package app

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"chronicle/editor/internal/export"
	"chronicle/editor/internal/presence"
)

const (
	maxTitleLength   = 200
	maxContentLength = 2 << 20
	maxContextLength = 4000
	maxNameLength    = 80
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func validateLogin(input LoginInput) error {
	return validation.ValidateStruct(&input,
		validation.Field(&input.Name, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&input.Email, validation.Match(emailPattern).Error("must be a valid email address")),
		validation.Field(&input.Role, validation.In("viewer", "editor", "admin")),
	)
}

func validateCreateDocument(input CreateDocumentInput) error {
	return validation.ValidateStruct(&input,
		validation.Field(&input.Title, validation.Required, validation.Length(1, maxTitleLength)),
		validation.Field(&input.Content, validation.Length(0, maxContentLength)),
	)
}

func validateSaveDocument(input SaveDocumentInput) error {
	return validation.ValidateStruct(&input,
		validation.Field(&input.Title, validation.Length(0, maxTitleLength)),
		validation.Field(&input.Content, validation.Length(0, maxContentLength)),
	)
}

func validateApplyTemplate(input ApplyTemplateInput) error {
	return validation.ValidateStruct(&input,
		validation.Field(&input.DealID, validation.Length(0, maxNameLength)),
		validation.Field(&input.Context, validation.Length(0, maxContextLength)),
	)
}

func validateSuggest(input SuggestInput) error {
	return validation.ValidateStruct(&input,
		validation.Field(&input.Context, validation.Length(0, maxContextLength)),
		validation.Field(&input.Content, validation.Length(0, maxContentLength)),
	)
}

var formatRule = validation.By(func(value any) error {
	raw, _ := value.(string)
	if _, err := export.ParseFormat(raw); err != nil {
		return errors.New("must be one of pdf, docx, html or markdown")
	}
	return nil
})

func validateExportRequest(input ExportRequest) error {
	return validation.ValidateStruct(&input,
		validation.Field(&input.Format, validation.Required, formatRule),
	)
}

func validatePresence(input PresenceInput) error {
	return validation.ValidateStruct(&input,
		validation.Field(&input.Status,
			validation.Required,
			validation.In(string(presence.StatusEditing), string(presence.StatusReviewing), string(presence.StatusViewing)),
		),
	)
}
