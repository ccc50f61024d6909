package gattdecode

// BodySensorLocation is where the sensor sits on the body.
type BodySensorLocation byte

const (
	LocationOther BodySensorLocation = iota
	LocationChest
	LocationWrist
	LocationFinger
	LocationHand
	LocationEarLobe
	LocationFoot
	// everything from 7 up is reserved for future use
	LocationReserved
)

var locationNames = [...]string{
	LocationOther:    "Other",
	LocationChest:    "Chest",
	LocationWrist:    "Wrist",
	LocationFinger:   "Finger",
	LocationHand:     "Hand",
	LocationEarLobe:  "Ear Lobe",
	LocationFoot:     "Foot",
	LocationReserved: "Reserved",
}

func (l BodySensorLocation) String() string {
	if l >= LocationReserved {
		return locationNames[LocationReserved]
	}
	return locationNames[l]
}

func (l BodySensorLocation) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}
