/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"errors"
	"fmt"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/k6browser/env"
	"github.com/liuxd6825/k6browser/lib/types"
)

// BrowserOptions configures the engine. Unset (invalid) values fall back to
// the package defaults.
//
//nolint:lll
type BrowserOptions struct {
	WSURL             null.String        `json:"wsURL" envconfig:"K6BROWSER_WS_URL"`
	Timeout           types.NullDuration `json:"timeout" envconfig:"K6BROWSER_TIMEOUT"`
	PollInterval      types.NullDuration `json:"pollInterval" envconfig:"K6BROWSER_POLL_INTERVAL"`
	StablePolls       null.Int           `json:"stablePolls" envconfig:"K6BROWSER_STABLE_POLLS"`
	StableTolerance   null.Float         `json:"stableTolerance" envconfig:"K6BROWSER_STABLE_TOLERANCE"`
	DialogGracePeriod types.NullDuration `json:"dialogGracePeriod" envconfig:"K6BROWSER_DIALOG_GRACE"`
	DialogDefault     null.String        `json:"dialogDefault" envconfig:"K6BROWSER_DIALOG_DEFAULT"`
	Debug             null.Bool          `json:"debug" envconfig:"K6BROWSER_DEBUG"`
	LogCategoryFilter null.String        `json:"logCategoryFilter" envconfig:"K6BROWSER_LOG_CATEGORY_FILTER"`
	TraceEndpoint     null.String        `json:"traceEndpoint" envconfig:"K6BROWSER_TRACE_ENDPOINT"`
}

// NewBrowserOptions returns options holding the defaults, all unset.
func NewBrowserOptions() BrowserOptions {
	return BrowserOptions{
		Timeout:           types.NewNullDuration(DefaultTimeout, false),
		PollInterval:      types.NewNullDuration(DefaultPollInterval, false),
		StablePolls:       null.NewInt(DefaultStablePolls, false),
		StableTolerance:   null.NewFloat(DefaultStableTolerance, false),
		DialogGracePeriod: types.NewNullDuration(DefaultDialogGracePeriod, false),
		DialogDefault:     null.NewString(DefaultDialogAction, false),
		LogCategoryFilter: null.NewString(".*", false),
	}
}

// Apply saves the set values of opts in the receiver.
//
//nolint:cyclop
func (o BrowserOptions) Apply(opts BrowserOptions) BrowserOptions {
	if opts.WSURL.Valid {
		o.WSURL = opts.WSURL
	}
	if opts.Timeout.Valid {
		o.Timeout = opts.Timeout
	}
	if opts.PollInterval.Valid {
		o.PollInterval = opts.PollInterval
	}
	if opts.StablePolls.Valid {
		o.StablePolls = opts.StablePolls
	}
	if opts.StableTolerance.Valid {
		o.StableTolerance = opts.StableTolerance
	}
	if opts.DialogGracePeriod.Valid {
		o.DialogGracePeriod = opts.DialogGracePeriod
	}
	if opts.DialogDefault.Valid {
		o.DialogDefault = opts.DialogDefault
	}
	if opts.Debug.Valid {
		o.Debug = opts.Debug
	}
	if opts.LogCategoryFilter.Valid {
		o.LogCategoryFilter = opts.LogCategoryFilter
	}
	if opts.TraceEndpoint.Valid {
		o.TraceEndpoint = opts.TraceEndpoint
	}
	return o
}

// BrowserOptionsFromEnv reads the K6BROWSER_* variables through lookup.
func BrowserOptionsFromEnv(lookup env.LookupFunc) (BrowserOptions, error) {
	var opts BrowserOptions
	if err := envconfig.Process("", &opts, lookup); err != nil {
		return BrowserOptions{}, fmt.Errorf("reading browser options from environment: %w", err)
	}
	return opts, nil
}

// browserOptionsFile is the YAML layout of the options file.
type browserOptionsFile struct {
	WSURL             *string            `yaml:"wsURL"`
	Timeout           types.NullDuration `yaml:"timeout"`
	PollInterval      types.NullDuration `yaml:"pollInterval"`
	StablePolls       *int64             `yaml:"stablePolls"`
	StableTolerance   *float64           `yaml:"stableTolerance"`
	DialogGracePeriod types.NullDuration `yaml:"dialogGracePeriod"`
	DialogDefault     *string            `yaml:"dialogDefault"`
	Debug             *bool              `yaml:"debug"`
	LogCategoryFilter *string            `yaml:"logCategoryFilter"`
	TraceEndpoint     *string            `yaml:"traceEndpoint"`
}

// ParseBrowserOptionsYAML decodes an options file. Keys missing from the
// file stay unset.
func ParseBrowserOptionsYAML(data []byte) (BrowserOptions, error) {
	var f browserOptionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return BrowserOptions{}, fmt.Errorf("parsing browser options file: %w", err)
	}
	return BrowserOptions{
		WSURL:             null.StringFromPtr(f.WSURL),
		Timeout:           f.Timeout,
		PollInterval:      f.PollInterval,
		StablePolls:       null.IntFromPtr(f.StablePolls),
		StableTolerance:   null.FloatFromPtr(f.StableTolerance),
		DialogGracePeriod: f.DialogGracePeriod,
		DialogDefault:     null.StringFromPtr(f.DialogDefault),
		Debug:             null.BoolFromPtr(f.Debug),
		LogCategoryFilter: null.StringFromPtr(f.LogCategoryFilter),
		TraceEndpoint:     null.StringFromPtr(f.TraceEndpoint),
	}, nil
}

var errInvalidOption = errors.New("invalid browser option")

// Validate checks the set values.
func (o BrowserOptions) Validate() error {
	switch {
	case o.Timeout.Valid && o.Timeout.TimeDuration() < 0:
		return fmt.Errorf("%w: timeout must not be negative", errInvalidOption)
	case o.PollInterval.Valid && o.PollInterval.TimeDuration() <= 0:
		return fmt.Errorf("%w: poll interval must be positive", errInvalidOption)
	case o.StablePolls.Valid && o.StablePolls.Int64 < 1:
		return fmt.Errorf("%w: stable polls must be at least 1", errInvalidOption)
	case o.StableTolerance.Valid && o.StableTolerance.Float64 < 0:
		return fmt.Errorf("%w: stable tolerance must not be negative", errInvalidOption)
	case o.DialogGracePeriod.Valid && o.DialogGracePeriod.TimeDuration() < 0:
		return fmt.Errorf("%w: dialog grace period must not be negative", errInvalidOption)
	case o.DialogDefault.Valid &&
		o.DialogDefault.String != DialogActionDismiss && o.DialogDefault.String != DialogActionAccept:
		return fmt.Errorf("%w: dialog default must be %q or %q, got %q",
			errInvalidOption, DialogActionDismiss, DialogActionAccept, o.DialogDefault.String)
	}
	return nil
}

func (o BrowserOptions) timeout() time.Duration {
	if o.Timeout.Valid && o.Timeout.TimeDuration() > 0 {
		return o.Timeout.TimeDuration()
	}
	return DefaultTimeout
}

func (o BrowserOptions) pollInterval() time.Duration {
	if o.PollInterval.Valid && o.PollInterval.TimeDuration() > 0 {
		return o.PollInterval.TimeDuration()
	}
	return DefaultPollInterval
}

func (o BrowserOptions) stablePolls() int {
	if o.StablePolls.Valid && o.StablePolls.Int64 > 0 {
		return int(o.StablePolls.Int64)
	}
	return int(DefaultStablePolls)
}

func (o BrowserOptions) stableTolerance() float64 {
	if o.StableTolerance.Valid && o.StableTolerance.Float64 >= 0 {
		return o.StableTolerance.Float64
	}
	return DefaultStableTolerance
}

func (o BrowserOptions) dialogGracePeriod() time.Duration {
	if o.DialogGracePeriod.Valid && o.DialogGracePeriod.TimeDuration() >= 0 {
		return o.DialogGracePeriod.TimeDuration()
	}
	return DefaultDialogGracePeriod
}

func (o BrowserOptions) dialogDefault() string {
	if o.DialogDefault.Valid && o.DialogDefault.String != "" {
		return o.DialogDefault.String
	}
	return DefaultDialogAction
}
