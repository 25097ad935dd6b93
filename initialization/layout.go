// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package initialization

import "github.com/shellpost/post/config"

// filesLayout describes how a data set's labels are partitioned across
// numbered chunk files so that none exceeds MaxFileSize.
type filesLayout struct {
	NumFiles          uint
	FileNumLabels     uint64
	LastFileNumLabels uint64
}

func deriveFilesLayout(cfg config.Config, opts config.InitOpts) filesLayout {
	const labelSize = 16
	totalLabels := cfg.LabelsPerUnit * uint64(opts.NumUnits)
	labelsPerFile := opts.MaxFileSize / labelSize
	if labelsPerFile == 0 {
		labelsPerFile = 1
	}

	if totalLabels <= labelsPerFile {
		return filesLayout{NumFiles: 1, FileNumLabels: totalLabels, LastFileNumLabels: totalLabels}
	}

	numFiles := (totalLabels + labelsPerFile - 1) / labelsPerFile
	last := totalLabels - (numFiles-1)*labelsPerFile
	return filesLayout{
		NumFiles:          uint(numFiles),
		FileNumLabels:     labelsPerFile,
		LastFileNumLabels: last,
	}
}
