package device

// DetectOrder controls the relative ordering in which driver probe
// functions run during hardware detection. Lower values run first.
type DetectOrder uint8

const (
	// DetectOrderEarly is used by drivers that other probes may depend on
	// (e.g. the console, so that later probe failures can be logged).
	DetectOrderEarly DetectOrder = iota

	// DetectOrderBeforeACPI runs after DetectOrderEarly but before any
	// ACPI-dependent driver.
	DetectOrderBeforeACPI

	// DetectOrderACPI is used by drivers that depend on ACPI tables.
	DetectOrderACPI

	// DetectOrderLast runs after every other driver.
	DetectOrderLast
)

// ProbeFn is a function that attempts to detect and initialize a particular
// piece of hardware, returning the Driver that manages it or nil if the
// hardware is not present.
type ProbeFn func() Driver

// DriverInfo associates a probe function with the order it should run in
// relative to other registered drivers.
type DriverInfo struct {
	// Order controls when this driver's Probe function runs relative to
	// other registered drivers.
	Order DetectOrder

	// Probe attempts to detect and initialize the driver's hardware.
	Probe ProbeFn
}

// DriverInfoList is a sortable list of DriverInfo, ordered by DriverInfo.Order.
type DriverInfoList []*DriverInfo

func (l DriverInfoList) Len() int      { return len(l) }
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }
func (l DriverInfoList) Less(i, j int) bool {
	return l[i].Order < l[j].Order
}

var registeredDrivers DriverInfoList

// RegisterDriver adds a driver probe function to the registry consulted by
// hal.DetectHardware. Drivers register themselves from an init() block.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns every driver registered so far.
func DriverList() DriverInfoList {
	return registeredDrivers
}
