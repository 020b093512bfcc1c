// Copyright 2024 PolyCrypt GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging configures the sequencer's structured logger. Every
// component takes a *logrus.Entry with component-scoped fields already
// attached, rather than logging against the bare root logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the base logger: JSON in production-shaped output, level
// controlled by LOG_LEVEL (defaults to info).
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})

	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// Component returns a child logger scoped to one component.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
