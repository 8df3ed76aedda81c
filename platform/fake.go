package platform

// FakeEnumerator returns a fixed, caller-supplied list of raw interfaces.
// Used by manager, hotplug, hid, and adapter tests in place of a real OS scan.
type FakeEnumerator struct {
	Interfaces []RawInterface
	Err        error
}

// NewFake builds a FakeEnumerator over the given interfaces.
func NewFake(interfaces ...RawInterface) *FakeEnumerator {
	return &FakeEnumerator{Interfaces: interfaces}
}

// Enumerate implements Enumerator.
func (f *FakeEnumerator) Enumerate() ([]RawInterface, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]RawInterface, len(f.Interfaces))
	copy(out, f.Interfaces)
	return out, nil
}
