// Copyright 2021 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package uuid

import guuid "github.com/google/uuid"

// Generator hands out the ids of server requests. A request keeps its id
// over all attempts, so the server can tell a retry from a new request.
type Generator interface {
	NewString() string
}

type generatorImpl struct{}

func (g *generatorImpl) NewString() string {
	return guuid.NewString()
}

// NewGenerator creates a generator of random UUIDs.
func NewGenerator() Generator {
	return &generatorImpl{}
}
