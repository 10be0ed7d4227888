package models

import "time"

// UserRecord represents a user account on a Jellyfin server.
// Identity across servers is Name; each server assigns its own ID.
type UserRecord struct {
	ID          string `json:"Id"`
	Name        string `json:"Name"`
	HasPassword bool   `json:"HasPassword"`
}

// WatchedItem is a media item with the per-user playback state attached.
// Item IDs are assumed to be meaningful on both servers, no re-mapping.
type WatchedItem struct {
	ItemID                string     `json:"Id"`
	Name                  string     `json:"Name"`
	Type                  string     `json:"Type"`
	Played                bool       `json:"Played"`
	PlayCount             int        `json:"PlayCount"`
	PlaybackPositionTicks int64      `json:"PlaybackPositionTicks"`
	LastPlayedDate        *time.Time `json:"LastPlayedDate,omitempty"`
	RuntimeTicks          int64      `json:"RunTimeTicks,omitempty"`
}

// HasProgress reports whether the item carries state worth replaying
func (w WatchedItem) HasProgress() bool {
	return w.Played || w.PlaybackPositionTicks > 0
}

// ItemsPage is one page of a /Users/{id}/Items listing
type ItemsPage struct {
	Items            []ItemEnvelope `json:"Items"`
	TotalRecordCount int            `json:"TotalRecordCount"`
}

// ItemEnvelope is the wire shape of a library item with its UserData block
type ItemEnvelope struct {
	ID           string    `json:"Id"`
	Name         string    `json:"Name"`
	Type         string    `json:"Type"`
	RunTimeTicks int64     `json:"RunTimeTicks"`
	UserData     *UserData `json:"UserData,omitempty"`
}

// UserData is the per-user playback state block Jellyfin attaches to items
type UserData struct {
	Played                bool       `json:"Played"`
	PlayCount             int        `json:"PlayCount"`
	PlaybackPositionTicks int64      `json:"PlaybackPositionTicks"`
	LastPlayedDate        *time.Time `json:"LastPlayedDate,omitempty"`
}

// WatchedItem flattens an item envelope into a WatchedItem snapshot
func (e ItemEnvelope) WatchedItem() WatchedItem {
	item := WatchedItem{
		ItemID:       e.ID,
		Name:         e.Name,
		Type:         e.Type,
		RuntimeTicks: e.RunTimeTicks,
	}
	if e.UserData != nil {
		item.Played = e.UserData.Played
		item.PlayCount = e.UserData.PlayCount
		item.PlaybackPositionTicks = e.UserData.PlaybackPositionTicks
		item.LastPlayedDate = e.UserData.LastPlayedDate
	}
	return item
}

// NewUserRequest is the body for POST /Users/New. Accounts are always
// created without a password, whatever the source account had.
type NewUserRequest struct {
	Name string `json:"Name"`
}

// ProgressUpdate is the body for the playback progress endpoint
type ProgressUpdate struct {
	PositionTicks int64 `json:"PositionTicks"`
	IsPaused      bool  `json:"IsPaused"`
}
