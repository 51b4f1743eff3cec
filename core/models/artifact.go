package models

import (
	"time"
)

type ArtifactRole string

const (
	RoleInput  ArtifactRole = "input"
	RoleOutput ArtifactRole = "output"
)

type StorageKind string

const (
	StorageInline StorageKind = "inline"
	StorageObject StorageKind = "object"
)

// StorageReference is either an inline base64 payload or a URI into the
// object store. Kind selects which of Data and URI is meaningful.
type StorageReference struct {
	Kind     StorageKind `json:"kind"`
	MIMEType string      `json:"mime_type"`
	Data     string      `json:"data,omitempty"`
	URI      string      `json:"uri,omitempty"`
}

func InlineReference(mimeType, base64Data string) StorageReference {
	return StorageReference{Kind: StorageInline, MIMEType: mimeType, Data: base64Data}
}

func ObjectReference(mimeType, uri string) StorageReference {
	return StorageReference{Kind: StorageObject, MIMEType: mimeType, URI: uri}
}

func (r StorageReference) IsInline() bool {
	return r.Kind == StorageInline
}

type Artifact struct {
	ID                 int64        `db:"id" json:"id"`
	TaskID             int64        `db:"task_id" json:"task_id"`
	Role               ArtifactRole `db:"role" json:"role"`
	FileName           string       `db:"file_name" json:"file_name"`
	MIMEType           string       `db:"mime_type" json:"mime_type"`
	StorageKind        StorageKind  `db:"storage_kind" json:"storage_kind"`
	InlineData         *string      `db:"inline_data" json:"-"`
	ObjectURI          *string      `db:"object_uri" json:"object_uri,omitempty"`
	AccessURL          *string      `db:"access_url" json:"-"`
	AccessURLUpdatedAt *time.Time   `db:"access_url_updated_at" json:"-"`
	AspectRatio        string       `db:"aspect_ratio" json:"aspect_ratio,omitempty"`
	Deleted            bool         `db:"deleted" json:"-"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`
}

// Reference rebuilds the storage reference from the persisted columns.
func (a *Artifact) Reference() StorageReference {
	ref := StorageReference{Kind: a.StorageKind, MIMEType: a.MIMEType}
	if a.InlineData != nil {
		ref.Data = *a.InlineData
	}
	if a.ObjectURI != nil {
		ref.URI = *a.ObjectURI
	}
	return ref
}

// SetReference copies ref into the persisted columns.
func (a *Artifact) SetReference(ref StorageReference) {
	a.StorageKind = ref.Kind
	if ref.MIMEType != "" {
		a.MIMEType = ref.MIMEType
	}
	a.InlineData = nil
	a.ObjectURI = nil
	switch ref.Kind {
	case StorageInline:
		data := ref.Data
		a.InlineData = &data
	case StorageObject:
		uri := ref.URI
		a.ObjectURI = &uri
	}
}

func (a *Artifact) CachedURL() string {
	if a.AccessURL == nil {
		return ""
	}
	return *a.AccessURL
}
