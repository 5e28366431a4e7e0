package scan

import "time"

// Clock abstracts time.Now so sweeps and stores can be tested with a fake.
type Clock interface {
	Now() time.Time
}
