package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/evgate/internal/models"
)

// HistoryRepository 位置/事件历史仓库
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository 创建历史仓库
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// AppendLocation 追加一条位置记录
func (r *HistoryRepository) AppendLocation(ctx context.Context, vehicleID string, pt models.LocationPoint, at time.Time) error {
	query := `INSERT INTO location_log (time, vehicle_id, lat, lon, heading) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, query, at, vehicleID, pt.Latitude, pt.Longitude, int(pt.Heading))
	if err != nil {
		return fmt.Errorf("insert location log: %w", err)
	}
	return nil
}

// AppendEvent 追加一条事件记录
func (r *HistoryRepository) AppendEvent(ctx context.Context, vehicleID string, ev models.EventRecord, at time.Time) error {
	query := `INSERT INTO event_log (time, vehicle_id, event_id, type, value) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, query, at, vehicleID, int64(ev.EventID), int(ev.TypeCode), ev.Value)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// ListLocations 查询时间窗口内的位置历史
func (r *HistoryRepository) ListLocations(ctx context.Context, vehicleID string, start, stop time.Time) ([]*models.LocationLog, error) {
	query := `
		SELECT time, vehicle_id, lat, lon, heading
		FROM location_log
		WHERE vehicle_id = $1 AND time >= $2 AND time <= $3
		ORDER BY time
	`
	rows, err := r.db.Pool.Query(ctx, query, vehicleID, start, stop)
	if err != nil {
		return nil, fmt.Errorf("list location log: %w", err)
	}
	defer rows.Close()

	var logs []*models.LocationLog
	for rows.Next() {
		l := &models.LocationLog{}
		if err := rows.Scan(&l.Time, &l.VehicleID, &l.Latitude, &l.Longitude, &l.Heading); err != nil {
			return nil, fmt.Errorf("scan location log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, nil
}

// ListEvents 查询车辆最近的事件历史
func (r *HistoryRepository) ListEvents(ctx context.Context, vehicleID string, limit int) ([]*models.EventLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT time, vehicle_id, event_id, type, value
		FROM event_log
		WHERE vehicle_id = $1
		ORDER BY time DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, vehicleID, limit)
	if err != nil {
		return nil, fmt.Errorf("list event log: %w", err)
	}
	defer rows.Close()

	var logs []*models.EventLog
	for rows.Next() {
		l := &models.EventLog{}
		if err := rows.Scan(&l.Time, &l.VehicleID, &l.EventID, &l.TypeCode, &l.Value); err != nil {
			return nil, fmt.Errorf("scan event log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, nil
}
