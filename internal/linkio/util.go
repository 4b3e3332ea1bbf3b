package linkio

import (
	"errors"
	"strconv"
)

var errNoValidCACert = errors.New("linkio: no valid certificate in CA file")

func itoa(n int) string { return strconv.Itoa(n) }
