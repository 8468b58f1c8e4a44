package store

import "fmt"

// DefaultDrivers lists every built-in store driver in registration order.
func DefaultDrivers() []Driver {
	return []Driver{
		FilesystemDriver(),
		HTTPDriver(),
		VMwareDriver(),
		S3Driver(),
		IPFSDriver(),
	}
}

// DriverByName looks up a built-in driver by its configuration name.
func DriverByName(name string) (Driver, error) {
	for _, d := range DefaultDrivers() {
		if d.Name == name {
			return d, nil
		}
	}
	return Driver{}, fmt.Errorf("unknown store driver %q", name)
}
