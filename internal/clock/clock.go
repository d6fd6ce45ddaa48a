// Package clock defines the time source used by components that need
// testable timestamps.
package clock

import "time"

// Clock abstracts time.Now so stores and schedulers can be tested
// deterministically.
type Clock interface {
	Now() time.Time
}
