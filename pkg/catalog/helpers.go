package catalog

import (
	"strings"

	"onebookreader/pkg/apierror"
)

func requireID(field, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apierror.New(apierror.KindValidation, field+" is required")
	}
	return id, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return page, limit
}
