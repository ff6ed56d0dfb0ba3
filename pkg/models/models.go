// Package models defines the catalog read models shared by the database and
// cache layers.
package models

import "time"

// Band is a band profile row shaped for caching.
type Band struct {
	ID         int64     `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Slug       string    `db:"slug" json:"slug"`
	Genre      string    `db:"genre" json:"genre"`
	Country    string    `db:"country" json:"country"`
	VideoCount int       `db:"video_count" json:"videoCount"`
	ViewCount  int64     `db:"view_count" json:"viewCount"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// Video is a performance video row shaped for caching.
type Video struct {
	ID          int64     `db:"id" json:"id"`
	BandID      int64     `db:"band_id" json:"bandId"`
	Title       string    `db:"title" json:"title"`
	YouTubeID   string    `db:"youtube_id" json:"youtubeId"`
	Category    string    `db:"category" json:"category"`
	ViewCount   int64     `db:"view_count" json:"viewCount"`
	Featured    bool      `db:"featured" json:"featured"`
	PublishedAt time.Time `db:"published_at" json:"publishedAt"`
}

// Category groups videos for browsing.
type Category struct {
	ID         int64  `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	Slug       string `db:"slug" json:"slug"`
	VideoCount int    `db:"video_count" json:"videoCount"`
}

// BandProfile is the cache payload for a single band page: the profile plus
// its most popular videos.
type BandProfile struct {
	Band   Band    `json:"band"`
	Videos []Video `json:"videos"`
}
