/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package el

import (
	"context"

	"github.com/viant/afs"
)

// SourceLoader reads dialect source text from wherever it lives. It is
// backed by github.com/viant/afs's pluggable storage abstraction so a
// source path can point at the local filesystem today and at S3/GCS/mem
// storage tomorrow without changing a single caller — the same
// "describe the source as a URL, let afs pick the backend" pattern the
// rest of the example pack uses for everything from config to query
// results.
type SourceLoader struct {
	fs afs.Service
}

func NewSourceLoader() *SourceLoader {
	return &SourceLoader{fs: afs.New()}
}

// Load reads the full contents of the source at path (a local path or
// any URL afs understands, e.g. "s3://bucket/lib.el").
func (l *SourceLoader) Load(ctx context.Context, path string) (string, error) {
	data, err := l.fs.DownloadWithURL(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
