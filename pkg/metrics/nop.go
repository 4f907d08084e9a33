package metrics

// Nop discards every observation. It implements ClientMetrics,
// ProducerMetrics and RecorderMetrics and stands in when metrics are disabled.
type Nop struct{}

func (Nop) RecordTransition(string, string, string) {}
func (Nop) RecordSlotReceived()                     {}
func (Nop) RecordSlotReleased()                     {}
func (Nop) RecordTokenRejected(string)              {}
func (Nop) RecordNotification()                     {}
func (Nop) SetOutstandingSlots(int)                 {}

func (Nop) RecordSlotSent(int, int)                 {}
func (Nop) RecordSlotDropped(string)                {}
func (Nop) RecordSlotsReclaimed(int)                {}
func (Nop) SetConnectedClients(int)                 {}
func (Nop) RecordClientDisconnected(string)         {}
func (Nop) RecordWrite(string, int, float64, error) {}

var (
	_ ClientMetrics   = Nop{}
	_ ProducerMetrics = Nop{}
	_ RecorderMetrics = Nop{}
)
