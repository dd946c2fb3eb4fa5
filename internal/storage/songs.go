package storage

import (
	"database/sql"
	"time"

	apperr "karaoke/internal/errors"
	"karaoke/internal/model"
)

const songColumns = `id, title, artist, COALESCE(album,''), COALESCE(genre,''),
	COALESCE(release_date,''), duration_ms, COALESCE(source,''), COALESCE(video_id,''),
	COALESCE(uploader,''), COALESCE(channel_id,''), COALESCE(upload_date,''),
	itunes_track_id, itunes_artist_id,
	COALESCE(original_path,''), COALESCE(vocals_path,''), COALESCE(instrumental_path,''),
	COALESCE(thumbnail_path,''), COALESCE(cover_art_path,''),
	COALESCE(plain_lyrics,''), COALESCE(synced_lyrics,''), COALESCE(raw_metadata,''),
	has_audio_files, created_at, updated_at`

// SongRepository handles song CRUD operations.
type SongRepository struct {
	db *DB
}

// NewSongRepository creates a new song repository.
func NewSongRepository(db *DB) *SongRepository {
	return &SongRepository{db: db}
}

// Create inserts a new song row.
func (r *SongRepository) Create(song *model.Song) error {
	if song.CreatedAt.IsZero() {
		song.CreatedAt = time.Now().UTC()
	}
	if song.Artist == "" {
		song.Artist = "Unknown Artist"
	}

	_, err := r.db.conn.Exec(`
		INSERT INTO songs (id, title, artist, album, genre, release_date, duration_ms,
			source, video_id, uploader, channel_id, upload_date,
			itunes_track_id, itunes_artist_id,
			original_path, vocals_path, instrumental_path, thumbnail_path, cover_art_path,
			plain_lyrics, synced_lyrics, raw_metadata, has_audio_files, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		song.ID, song.Title, song.Artist, song.Album, song.Genre, song.ReleaseDate,
		song.DurationMs, song.Source, song.VideoID, song.Uploader, song.ChannelID,
		song.UploadDate, song.ItunesTrackID, song.ItunesArtistID,
		song.OriginalPath, song.VocalsPath, song.InstrumentalPath,
		song.ThumbnailPath, song.CoverArtPath,
		song.PlainLyrics, song.SyncedLyrics, song.RawMetadata,
		song.HasAudioFiles, song.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap("SongRepository.Create", err)
	}
	r.db.checkpoint()
	return nil
}

// Get returns the song or ErrNotFound.
func (r *SongRepository) Get(id string) (*model.Song, error) {
	row := r.db.conn.QueryRow(`SELECT `+songColumns+` FROM songs WHERE id = ?`, id)
	song, err := scanSong(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NewWithMessage("SongRepository.Get", apperr.ErrNotFound, "song "+id+" not found")
	}
	if err != nil {
		return nil, apperr.Wrap("SongRepository.Get", err)
	}
	return song, nil
}

// List returns all songs, newest first.
func (r *SongRepository) List() ([]*model.Song, error) {
	rows, err := r.db.conn.Query(`SELECT ` + songColumns + ` FROM songs ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperr.Wrap("SongRepository.List", err)
	}
	defer rows.Close()

	var songs []*model.Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, apperr.Wrap("SongRepository.List", err)
		}
		songs = append(songs, song)
	}
	return songs, rows.Err()
}

// Update persists a full song snapshot. This is the single
// metadata-to-row conversion path; the worker and the API both go
// through it.
func (r *SongRepository) Update(song *model.Song) error {
	now := time.Now().UTC()
	song.UpdatedAt = &now

	res, err := r.db.conn.Exec(`
		UPDATE songs SET
			title = ?, artist = ?, album = ?, genre = ?, release_date = ?, duration_ms = ?,
			source = ?, video_id = ?, uploader = ?, channel_id = ?, upload_date = ?,
			itunes_track_id = ?, itunes_artist_id = ?,
			original_path = ?, vocals_path = ?, instrumental_path = ?,
			thumbnail_path = ?, cover_art_path = ?,
			plain_lyrics = ?, synced_lyrics = ?, raw_metadata = ?,
			has_audio_files = ?, updated_at = ?
		WHERE id = ?`,
		song.Title, song.Artist, song.Album, song.Genre, song.ReleaseDate, song.DurationMs,
		song.Source, song.VideoID, song.Uploader, song.ChannelID, song.UploadDate,
		song.ItunesTrackID, song.ItunesArtistID,
		song.OriginalPath, song.VocalsPath, song.InstrumentalPath,
		song.ThumbnailPath, song.CoverArtPath,
		song.PlainLyrics, song.SyncedLyrics, song.RawMetadata,
		song.HasAudioFiles, song.UpdatedAt, song.ID,
	)
	if err != nil {
		return apperr.Wrap("SongRepository.Update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap("SongRepository.Update", err)
	}
	if affected == 0 {
		return apperr.NewWithMessage("SongRepository.Update", apperr.ErrNotFound, "song "+song.ID+" not found")
	}
	r.db.checkpoint()
	return nil
}

// Delete removes a song row. Queue entries cascade.
func (r *SongRepository) Delete(id string) error {
	res, err := r.db.conn.Exec(`DELETE FROM songs WHERE id = ?`, id)
	if err != nil {
		return apperr.Wrap("SongRepository.Delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap("SongRepository.Delete", err)
	}
	if affected == 0 {
		return apperr.NewWithMessage("SongRepository.Delete", apperr.ErrNotFound, "song "+id+" not found")
	}
	r.db.checkpoint()
	return nil
}

func scanSong(row scanner) (*model.Song, error) {
	song := &model.Song{}
	var updatedAt sql.NullTime
	err := row.Scan(
		&song.ID, &song.Title, &song.Artist, &song.Album, &song.Genre,
		&song.ReleaseDate, &song.DurationMs, &song.Source, &song.VideoID,
		&song.Uploader, &song.ChannelID, &song.UploadDate,
		&song.ItunesTrackID, &song.ItunesArtistID,
		&song.OriginalPath, &song.VocalsPath, &song.InstrumentalPath,
		&song.ThumbnailPath, &song.CoverArtPath,
		&song.PlainLyrics, &song.SyncedLyrics, &song.RawMetadata,
		&song.HasAudioFiles, &song.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		song.UpdatedAt = &updatedAt.Time
	}
	return song, nil
}
