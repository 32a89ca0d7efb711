package model

import "time"

// NodeMCUDevice describes a networked coin sub-controller.  Devices report
// pulses over MQTT or HTTP and must be in the "accepted" state before
// their pulses produce credit.  Revenue counters are maintained by the
// pulse manager and surfaced on the admin API.
type NodeMCUDevice struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	MACAddress  string    `json:"macAddress"`
	IPAddress   string    `json:"ipAddress"`
	Status      string    `json:"status"` // pending | accepted | rejected | disconnected
	AuthKey     string    `json:"-"`
	LastSeen    time.Time `json:"lastSeen"`
	TotalPulses int       `json:"totalPulses"`
	TotalPesos  int       `json:"totalRevenue"`
}

// Accepted reports whether the device may produce credit.
func (d *NodeMCUDevice) Accepted() bool { return d.Status == "accepted" }
