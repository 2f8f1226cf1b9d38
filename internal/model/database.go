package model

import "time"

// Database is a reference proteome registered for similarity search.
type Database struct {
	ID           int64      `json:"id,omitempty"`
	Alias        string     `json:"alias"`
	FileName     string     `json:"fileName,omitempty"`
	AbsolutePath string     `json:"-"`
	SourceType   SourceType `json:"sourceType"`
	Date         *time.Time `json:"date,omitempty"`
}

// DatabaseRequest is the JSON part of the multipart POST /dbs body.
type DatabaseRequest struct {
	Alias string `json:"alias" validate:"required"`
}
