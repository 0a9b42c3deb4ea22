package memory

import (
	"testing"

	"github.com/wpgarts/captcha/lib/store/storetest"
)

func TestImpl(t *testing.T) {
	storetest.Common(t, factory{}, nil)
}
