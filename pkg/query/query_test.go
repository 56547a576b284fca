package query

import (
	"errors"
	"testing"
)

func TestBuildClearStatement(t *testing.T) {
	stmt, err := BuildClearStatement("Location", "device")
	if err != nil {
		t.Fatalf("BuildClearStatement() error = %v", err)
	}
	want := `(update (set #"Location" nil) (from device))`
	if stmt.String() != want {
		t.Fatalf("BuildClearStatement() = %q, want %q", stmt, want)
	}
	if stmt.Kind() != Update {
		t.Fatalf("kind = %v, want update", stmt.Kind())
	}
}

func TestBuildUpdateStatement(t *testing.T) {
	tests := []struct {
		name       string
		objectType string
		field      string
		value      string
		want       string
	}{
		{
			name:       "id",
			objectType: "device",
			field:      FieldID,
			value:      "12345",
			want:       `(update (set #"Site" (enum "Geneva")) (from device (where device (eq id (identifier 12345)))))`,
		},
		{
			name:       "hash",
			objectType: "binary",
			field:      FieldHash,
			value:      "0cc175b9c0f1b6a831c399e269772661",
			want:       `(update (set #"Site" (enum "Geneva")) (from binary (where binary (eq hash (md5 0cc175b9c0f1b6a831c399e269772661)))))`,
		},
		{
			name:       "name on device is quoted",
			objectType: "device",
			field:      FieldName,
			value:      "LAPTOP-01",
			want:       `(update (set #"Site" (enum "Geneva")) (from device (where device (eq name (pattern "LAPTOP-01")))))`,
		},
		{
			name:       "name on binary is not quoted",
			objectType: "binary",
			field:      FieldName,
			value:      "chrome.exe",
			want:       `(update (set #"Site" (enum "Geneva")) (from binary (where binary (eq executable_name (pattern chrome.exe)))))`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := BuildUpdateStatement("Geneva", "Site", tt.objectType, tt.field, tt.value)
			if err != nil {
				t.Fatalf("BuildUpdateStatement() error = %v", err)
			}
			if stmt.String() != tt.want {
				t.Fatalf("BuildUpdateStatement() = %q, want %q", stmt, tt.want)
			}
		})
	}
}

func TestBuildUpdateStatementErrors(t *testing.T) {
	tests := []struct {
		name       string
		category   string
		objectType string
		field      string
		value      string
		wantErr    error
	}{
		{name: "unsupported field", category: "Site", objectType: "device", field: "uid", value: "1", wantErr: ErrUnsupportedCondition},
		{name: "missing category", category: "", objectType: "device", field: FieldID, value: "1", wantErr: ErrMissingCategory},
		{name: "missing object type", category: "Site", objectType: " ", field: FieldID, value: "1", wantErr: ErrMissingObjectType},
		{name: "missing value", category: "Site", objectType: "device", field: FieldID, value: "", wantErr: ErrMissingValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := BuildUpdateStatement("Geneva", tt.category, tt.objectType, tt.field, tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("BuildUpdateStatement() error = %v, want %v", err, tt.wantErr)
			}
			if !stmt.IsZero() {
				t.Fatalf("expected no statement on error, got %q", stmt)
			}
		})
	}
}

func TestBuildIdentifierSelectStatement(t *testing.T) {
	template := `
		(select (id)
		  (from device))
	`
	stmt, err := BuildIdentifierSelectStatement(template)
	if err != nil {
		t.Fatalf("BuildIdentifierSelectStatement() error = %v", err)
	}
	if got, want := stmt.String(), "(select (id) (from device))"; got != want {
		t.Fatalf("BuildIdentifierSelectStatement() = %q, want %q", got, want)
	}
	if stmt.Kind() != Select {
		t.Fatalf("kind = %v, want select", stmt.Kind())
	}

	if _, err := BuildIdentifierSelectStatement("   "); !errors.Is(err, ErrMissingTemplate) {
		t.Fatalf("empty template error = %v, want %v", err, ErrMissingTemplate)
	}
	if _, err := BuildIdentifierSelectStatement("(select (id) (from device (where device (eq name $object_id$))))"); !errors.Is(err, ErrReservedMarker) {
		t.Fatalf("marker template error = %v, want %v", err, ErrReservedMarker)
	}
}

func TestSubstitute(t *testing.T) {
	got := Substitute("(select (id)\n (from device (where device (eq name (pattern $object_id$)))))", "PC-7")
	want := "(select (id) (from device (where device (eq name (pattern PC-7)))))"
	if got != want {
		t.Fatalf("Substitute() = %q, want %q", got, want)
	}
}
