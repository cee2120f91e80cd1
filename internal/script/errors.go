package script

import "errors"

var (
	// ErrUnsupportedSource — источник скрипта не поддерживается командой.
	ErrUnsupportedSource = errors.New("unsupported script source")
)
