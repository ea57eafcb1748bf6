//go:build !gstreamer

package playergst

import "errors"

var errNotEnabled = errors.New("gstreamer build tag not enabled")

// Driver is a stub when the gstreamer tag is not enabled.
type Driver struct{}

// NewDriver returns an error when the gstreamer build tag is missing.
func NewDriver(template string, device string) (*Driver, error) {
	return nil, errNotEnabled
}

func (d *Driver) LoadQueue(paths []string) error { return errNotEnabled }
func (d *Driver) PlayIndex(index int) error      { return errNotEnabled }
func (d *Driver) SetPause(pause bool) error      { return errNotEnabled }
func (d *Driver) SetLoop(loop bool) error        { return errNotEnabled }
func (d *Driver) SkipNext() error                { return errNotEnabled }
func (d *Driver) CurrentPath() (string, error)   { return "", errNotEnabled }
func (d *Driver) Close() error                   { return nil }
