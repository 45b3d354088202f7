// Package gameday is the public entry point of the network layer. It
// assembles the credential store, connectivity observer, request pipeline
// and streaming client from a Config and keeps their settings in step with
// configuration reloads.
package gameday

import (
	"github.com/nghyane/gameday-net/internal/apierr"
	"github.com/nghyane/gameday-net/internal/config"
	"github.com/nghyane/gameday-net/internal/connectivity"
	"github.com/nghyane/gameday-net/internal/pipeline"
	"github.com/nghyane/gameday-net/internal/stream"
)

// Config is the client configuration.
type Config = config.Config

// Descriptor is an immutable request definition.
type Descriptor = pipeline.Descriptor

// Response is a successful reply.
type Response = pipeline.Response

// Error is the error type returned by every request and stream operation.
type Error = apierr.Error

// ErrorKind classifies an Error.
type ErrorKind = apierr.Kind

// Message is a decoded stream frame.
type Message = stream.Message

// ConnectionState is the streaming client's state.
type ConnectionState = stream.ConnectionState

// Status is the connectivity status.
type Status = connectivity.Status

var (
	Get    = pipeline.Get
	Post   = pipeline.Post
	Put    = pipeline.Put
	Patch  = pipeline.Patch
	Delete = pipeline.Delete
)

// KindOf returns the kind of err; see apierr.KindOf.
func KindOf(err error) ErrorKind { return apierr.KindOf(err) }

// NewConfig returns the default configuration.
func NewConfig() *Config { return config.NewDefaultConfig() }

// LoadConfig reads the configuration at path.
func LoadConfig(path string) (*Config, error) { return config.LoadConfig(path) }
