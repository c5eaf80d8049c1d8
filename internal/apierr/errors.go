// Package apierr defines the typed error kinds surfaced to API clients.
// Handlers translate a *Error's Kind into an HTTP status and a JSON body;
// nothing below the handler layer writes to a ResponseWriter directly.
package apierr

import "fmt"

// Kind identifies one of the error classes a registry operation can fail
// with. The string value doubles as the machine-readable "kind" field of
// the JSON error body.
type Kind string

const (
	KindUnauthorized                  Kind = "Unauthorized"
	KindInvalidForcManifest           Kind = "InvalidForcManifest"
	KindVersionCollision              Kind = "VersionCollision"
	KindInvalidPublishToken           Kind = "InvalidPublishToken"
	KindTooLarge                      Kind = "TooLarge"
	KindInvalidForcVersion            Kind = "InvalidForcVersion"
	KindFailedToCompile               Kind = "FailedToCompile"
	KindFailedToGenerateDocumentation Kind = "FailedToGenerateDocumentation"
	KindMissingForcManifest           Kind = "MissingForcManifest"
	KindIpfsUploadFailed              Kind = "IpfsUploadFailed"
	KindS3UploadFailed                Kind = "S3UploadFailed"
	KindUnsupportedOs                 Kind = "UnsupportedOs"
	KindUnsupportedArch               Kind = "UnsupportedArch"
	KindOpenFile                      Kind = "OpenFile"
	KindReadFile                      Kind = "ReadFile"
	KindSaveFile                      Kind = "SaveFile"
	KindCopyFiles                     Kind = "CopyFiles"
	KindCreateTempDir                 Kind = "CreateTempDir"
	KindRemoveTempDir                 Kind = "RemoveTempDir"
	KindBytecodeId                    Kind = "BytecodeId"
	KindDatabase                      Kind = "Database"
	KindGithub                        Kind = "Github"
	KindNotFound                      Kind = "NotFound"
	KindNoChanges                     Kind = "NoChanges"
	KindAuthenticationError           Kind = "AuthenticationError"
)

// Error is the shape every registry operation returns on failure. Status is
// the HTTP status the handler layer maps the Kind to; Err, when set, is the
// underlying cause and is never serialized to the client.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

func Wrap(kind Kind, status int, message string, err error) *Error {
	return &Error{Kind: kind, Status: status, Message: message, Err: err}
}

// Unauthorized covers missing, invalid, and expired credentials alike; the
// reason string distinguishes them for logging without changing the kind
// the client sees.
func Unauthorized(reason string) *Error {
	return New(KindUnauthorized, 401, reason)
}

func InvalidForcManifest(msg string) *Error {
	return New(KindInvalidForcManifest, 400, msg)
}

// VersionCollision means the index already carries an entry for this exact
// (name, version) pair with different content than the one being published.
func VersionCollision(name, version string) *Error {
	return New(KindVersionCollision, 400, fmt.Sprintf("version %s of package %s already exists", version, name))
}

// InvalidPublishToken means the authenticated user does not own the
// package being published to.
func InvalidPublishToken() *Error {
	return New(KindInvalidPublishToken, 400, "publish token does not own this package")
}

func NotFound(msg string) *Error {
	return New(KindNotFound, 404, msg)
}

func Database(err error) *Error {
	return Wrap(KindDatabase, 500, "database operation failed", err)
}

func Github(err error) *Error {
	return Wrap(KindGithub, 401, "github request failed", err)
}
