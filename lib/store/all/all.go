// Package all is a meta-package that imports all store implementations.
package all

import (
	_ "github.com/wpgarts/captcha/lib/store/badger"
	_ "github.com/wpgarts/captcha/lib/store/bbolt"
	_ "github.com/wpgarts/captcha/lib/store/memory"
	_ "github.com/wpgarts/captcha/lib/store/postgres"
	_ "github.com/wpgarts/captcha/lib/store/valkey"
)
