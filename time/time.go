// SPDX-License-Identifier: ice License 1.0

package time

import (
	"context"
	"strconv"
	stdlibtime "time"

	"github.com/pkg/errors"
)

func Now() *Time {
	now := stdlibtime.Now().UTC()

	return &Time{
		Time: &now,
	}
}

func New(time stdlibtime.Time) *Time {
	return &Time{
		Time: &time,
	}
}

// Deadline is the absolute deadline for an IO operation bounded by timeout.
// Non-positive timeouts mean no deadline, which is the zero time for net.Conn.
func Deadline(timeout stdlibtime.Duration) stdlibtime.Time {
	if timeout <= 0 {
		return stdlibtime.Time{}
	}

	return Now().Add(timeout)
}

func (t *Time) MarshalJSON(_ context.Context) ([]byte, error) {
	if t.Time == nil || t.UnixNano() == 0 {
		return []byte("null"), nil
	}
	if t.Location() != stdlibtime.UTC {
		*t.Time = t.Time.UTC()
	}

	//nolint:wrapcheck // We're just proxying it.
	return t.Time.MarshalJSON()
}

func (t *Time) UnmarshalJSON(_ context.Context, bytes []byte) error {
	if err := t.unmarshallUint64(bytes); err != nil || t.Time != nil {
		return err
	}

	return t.unmarshallString(bytes)
}

func (t *Time) unmarshallUint64(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	for _, b := range data {
		if b < '0' || b > '9' {
			return nil
		}
	}
	millisOrNanos, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid numeric time: %v", string(data))
	}
	t.Time = new(stdlibtime.Time)
	if len(data) == millisecondDigits {
		*t.Time = stdlibtime.UnixMilli(millisOrNanos).UTC()
	} else {
		*t.Time = stdlibtime.Unix(0, millisOrNanos).UTC()
	}

	return nil
}

func (t *Time) unmarshallString(bytes []byte) error {
	data := string(bytes)
	if data == "null" || data == `""` || data == "" {
		return nil
	}
	time, err := stdlibtime.Parse(`"`+stdlibtime.RFC3339Nano+`"`, data)
	if err != nil {
		return errors.Wrapf(err, "invalid time format: %v", data)
	}
	t.Time = new(stdlibtime.Time)
	*t.Time = time.UTC()

	return nil
}
