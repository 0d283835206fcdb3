package reviews

import "errors"

var ErrDuplicateView = errors.New("dependent view already registered")
