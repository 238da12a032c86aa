package repository

import (
	"context"
	"database/sql"

	"EchoFM/db"
	"EchoFM/model"
)

// LibraryRepository 曲库存取层
// 解析成功的歌曲登记于此，按登记顺序构成自动连播的目录回退序列
type LibraryRepository struct {
	DB *sql.DB
}

func NewLibraryRepository() *LibraryRepository {
	return &LibraryRepository{DB: db.DB}
}

// Upsert 登记或刷新一条曲库记录
func (repo *LibraryRepository) Upsert(ctx context.Context, track model.Track) error {
	query := `INSERT INTO library_tracks (track_id, title, artist, thumbnail_url, duration, permalink_url)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			title = VALUES(title),
			artist = VALUES(artist),
			thumbnail_url = VALUES(thumbnail_url),
			duration = VALUES(duration),
			permalink_url = VALUES(permalink_url)`

	_, err := repo.DB.ExecContext(ctx, query,
		track.ID,
		track.Title,
		track.Artist,
		track.Thumbnail,
		track.Duration,
		track.URL,
	)
	return err
}

// GetByID 按标识获取曲库记录，未找到返回 (nil, nil)
func (repo *LibraryRepository) GetByID(ctx context.Context, trackID string) (*model.Track, error) {
	query := `SELECT track_id, title, artist, thumbnail_url, duration, permalink_url
		FROM library_tracks WHERE track_id = ?`

	var track model.Track
	err := repo.DB.QueryRowContext(ctx, query, trackID).Scan(
		&track.ID,
		&track.Title,
		&track.Artist,
		&track.Thumbnail,
		&track.Duration,
		&track.URL,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &track, nil
}

// ListByCreation 按登记时间升序列出曲库记录
func (repo *LibraryRepository) ListByCreation(ctx context.Context, limit int) ([]model.Track, error) {
	query := `SELECT track_id, title, artist, thumbnail_url, duration, permalink_url
		FROM library_tracks ORDER BY created_at ASC, track_id ASC LIMIT ?`

	rows, err := repo.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []model.Track
	for rows.Next() {
		var track model.Track
		if err := rows.Scan(
			&track.ID,
			&track.Title,
			&track.Artist,
			&track.Thumbnail,
			&track.Duration,
			&track.URL,
		); err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	return tracks, rows.Err()
}

// NextAfter 返回登记顺序上紧随给定歌曲之后的记录
// 给定歌曲不在曲库或已是末尾时返回 (nil, nil)
func (repo *LibraryRepository) NextAfter(ctx context.Context, trackID string) (*model.Track, error) {
	query := `SELECT t.track_id, t.title, t.artist, t.thumbnail_url, t.duration, t.permalink_url
		FROM library_tracks t
		JOIN library_tracks cur ON cur.track_id = ?
		WHERE (t.created_at > cur.created_at)
		   OR (t.created_at = cur.created_at AND t.track_id > cur.track_id)
		ORDER BY t.created_at ASC, t.track_id ASC
		LIMIT 1`

	var track model.Track
	err := repo.DB.QueryRowContext(ctx, query, trackID).Scan(
		&track.ID,
		&track.Title,
		&track.Artist,
		&track.Thumbnail,
		&track.Duration,
		&track.URL,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &track, nil
}
