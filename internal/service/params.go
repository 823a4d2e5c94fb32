package service

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PageParams is the validated offset and page size of a paginated request
type PageParams struct {
	Offset    int `json:"offset"     validate:"gte=0"`
	PageLimit int `json:"page_limit" validate:"gte=1,ltefield=MaxLimit"`
	MaxLimit  int `json:"-"          validate:"gte=1"`
}

// ParsePageParams parses the offset and page_limit query values. Data
// requests allow at most cfg.DataPageLimit rows per page, id searches at
// most cfg.SearchPageLimit ids. Empty values take the defaults: offset 0
// and the largest page.
func ParsePageParams(offset, pageLimit string, withData bool, cfg config.QueryConfig) (PageParams, error) {
	params := PageParams{MaxLimit: cfg.SearchPageLimit}
	if withData {
		params.MaxLimit = cfg.DataPageLimit
	}

	params.PageLimit = params.MaxLimit

	var err error

	if params.Offset, err = parseInt("offset", offset, 0); err != nil {
		return PageParams{}, err
	}

	if params.PageLimit, err = parseInt("page_limit", pageLimit, params.MaxLimit); err != nil {
		return PageParams{}, err
	}

	if err := params.Validate(); err != nil {
		return PageParams{}, err
	}

	return params, nil
}

// Validate checks the bounds of p
func (p PageParams) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.Wrap(err, errors.ErrTypeBadRequest, "invalid pagination parameters")
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe, p))
	}

	return errors.New(errors.ErrTypeBadRequest, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError, p PageParams) string {
	switch fe.StructField() {
	case "Offset":
		return fmt.Sprintf("offset should be greater than or equal to 0, got %d", p.Offset)
	case "PageLimit":
		return fmt.Sprintf("page_limit should be between 1 and %d, got %d", p.MaxLimit, p.PageLimit)
	default:
		return fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
	}
}

func parseInt(name, value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Newf(errors.ErrTypeBadRequest, "%s should be an integer, got '%s'", name, value)
	}

	return n, nil
}
