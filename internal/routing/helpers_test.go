// SPDX-License-Identifier: MIT
package routing

import (
	applog "appmix/internal/log"

	"github.com/sirupsen/logrus"
)

func newTestEntry() *logrus.Entry {
	return applog.Component("routing-test")
}
