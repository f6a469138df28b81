package larpix

// FilterChannel keeps the data packets of one chip and channel.
func FilterChannel(packets []Packet, chipID uint8, channel int) []Packet {
	var out []Packet
	for _, p := range packets {
		if p.IsData() && p.ChipID == chipID && int(p.Channel) == channel {
			out = append(out, p)
		}
	}
	return out
}

// PartitionByChannel groups the data packets of one chip by channel.
// Packets from other chips are dropped.
func PartitionByChannel(packets []Packet, chipID uint8) map[int][]Packet {
	out := make(map[int][]Packet)
	for _, p := range packets {
		if !p.IsData() || p.ChipID != chipID {
			continue
		}
		out[int(p.Channel)] = append(out[int(p.Channel)], p)
	}
	return out
}

// Datawords returns the ADC values of the given packets.
func Datawords(packets []Packet) []float64 {
	values := make([]float64, len(packets))
	for i, p := range packets {
		values[i] = float64(p.Dataword)
	}
	return values
}
