package encryption

import "fmt"

// SensitiveFields are the ticket fields encrypted at rest.
type SensitiveFields struct {
	Subject     string
	Description string
	Contact     string
}

// FieldError reports a single field that failed to decrypt.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Seal encrypts all three fields.
func (c *Codec) Seal(f SensitiveFields) (SensitiveFields, error) {
	var out SensitiveFields
	var err error
	if out.Subject, err = c.Encrypt(f.Subject); err != nil {
		return SensitiveFields{}, err
	}
	if out.Description, err = c.Encrypt(f.Description); err != nil {
		return SensitiveFields{}, err
	}
	if out.Contact, err = c.Encrypt(f.Contact); err != nil {
		return SensitiveFields{}, err
	}
	return out, nil
}

// Open decrypts every field independently. A field that fails is replaced by
// ErrorPlaceholder and reported; the other fields are unaffected.
func (c *Codec) Open(f SensitiveFields) (SensitiveFields, []error) {
	var errs []error
	reveal := func(name, stored string) string {
		plain, err := c.Reveal(stored)
		if err != nil {
			errs = append(errs, &FieldError{Field: name, Err: err})
		}
		return plain
	}
	out := SensitiveFields{
		Subject:     reveal("subject", f.Subject),
		Description: reveal("description", f.Description),
		Contact:     reveal("contact", f.Contact),
	}
	return out, errs
}
