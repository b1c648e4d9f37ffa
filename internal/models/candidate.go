package models

// OwnerNotFound is the owner name used when no ownership row matches a device.
const OwnerNotFound = "Não encontrado"

// OwnershipRecord maps a device to its responsible person.
type OwnershipRecord struct {
	DeviceID  string
	OwnerName string
}

// ContactRecord maps a location to the addresses notified for it.
type ContactRecord struct {
	Location  string
	EmailList []string
}

// Candidate is a device found inactive in the current run.
// Seq is its position in the filter output, which keeps duplicated source
// records distinguishable.
type Candidate struct {
	Seq        int          `json:"seq"`
	Device     DeviceRecord `json:"device"`
	Owner      string       `json:"owner"`
	Recipients []string     `json:"recipients"`
}
