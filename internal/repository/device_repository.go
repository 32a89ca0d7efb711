package repository

import (
	"context"
	"database/sql"

	"github.com/Djnirds1984/AJC-PISOWIFI-Management-System-X64/internal/model"
)

// DeviceRepo provides data access to the nodemcu_devices table, the
// provisioning record for networked coin sub-controllers.  The in-memory
// device registry is seeded from here at startup; revenue counters are
// flushed back periodically rather than per pulse.
type DeviceRepo struct {
	db *sql.DB
}

// NewDeviceRepo returns a DeviceRepo bound to the provided database.
func NewDeviceRepo(db *sql.DB) *DeviceRepo { return &DeviceRepo{db: db} }

// Load returns every provisioned device.
func (r *DeviceRepo) Load(ctx context.Context) ([]model.NodeMCUDevice, error) {
	const q = `SELECT id, name, mac_address, ip_address, status, auth_key, last_seen, total_pulses, total_pesos
	           FROM nodemcu_devices`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []model.NodeMCUDevice
	for rows.Next() {
		var d model.NodeMCUDevice
		var lastSeen sql.NullTime
		if err := rows.Scan(&d.ID, &d.Name, &d.MACAddress, &d.IPAddress, &d.Status, &d.AuthKey, &lastSeen, &d.TotalPulses, &d.TotalPesos); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			d.LastSeen = lastSeen.Time
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// SaveStats writes one device's revenue counters and last-seen stamp.
func (r *DeviceRepo) SaveStats(ctx context.Context, d *model.NodeMCUDevice) error {
	const q = `UPDATE nodemcu_devices
	           SET total_pulses = ?, total_pesos = ?, last_seen = ?
	           WHERE mac_address = ?`
	var lastSeen any
	if !d.LastSeen.IsZero() {
		lastSeen = d.LastSeen.UTC()
	}
	_, err := r.db.ExecContext(ctx, q, d.TotalPulses, d.TotalPesos, lastSeen, d.MACAddress)
	return err
}
