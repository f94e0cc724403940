package scope

import "errors"

// ErrUnsupportedValue is returned by Normalize for values outside the supported kinds.
var ErrUnsupportedValue = errors.New("unsupported variable value")
