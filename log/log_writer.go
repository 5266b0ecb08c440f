// Copyright 2013-Present Couchbase, Inc.
//
// Use of this software is governed by the Business Source License included in
// the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
// file, in accordance with the Business Source License, use of this software
// will be governed by the Apache License, Version 2.0, included in the file
// licenses/APL2.txt.

package log

import (
	"fmt"
	"os"
	"sync"
)

// RotatingLogFileWriter is the io.Writer a LoggerContext.Log_file can point
// at so this module's CommonLogger output rotates instead of growing
// without bound - useful when a connection manager process runs for as
// long as its replication streams do.
type RotatingLogFileWriter struct {
	logFile             *os.File
	maxLogFileSize      uint64
	maxNumberOfLogFiles uint64
	mu                  sync.Mutex
}

func NewRotatingLogFileWriter(fileName string, maxLogFileSize, maxNumberOfLogFiles uint64) (*RotatingLogFileWriter, error) {
	logFile, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		return nil, err
	}
	return &RotatingLogFileWriter{logFile, maxLogFileSize, maxNumberOfLogFiles, sync.Mutex{}}, nil
}

// Write implements io.Writer, rotating the underlying file first if this
// write would push it past maxLogFileSize.
func (writer *RotatingLogFileWriter) Write(data []byte) (n int, err error) {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	fi, err := writer.logFile.Stat()
	if err != nil {
		return
	}
	curSize := fi.Size()
	if curSize+int64(len(data)) < int64(writer.maxLogFileSize) {
		// under the size limit - write straight through
		return writer.logFile.Write(data)
	}

	fileName := writer.logFile.Name()
	// at the size limit - rotate first
	err = writer.rotateLogFiles()
	if err != nil {
		return
	}
	// open a fresh file under the same name and write to it
	writer.logFile, err = os.Create(fileName)
	if err != nil {
		return
	}
	return writer.logFile.Write(data)
}

// getNumberOfRotatedFiles finds how many rotated files already exist by
// probing for the highest ".N" suffix present.
func (writer *RotatingLogFileWriter) getNumberOfRotatedFiles() (uint64, error) {
	for i := writer.maxNumberOfLogFiles; i > 1; i-- {
		rotatedFileName := writer.logFile.Name() + "." + fmt.Sprintf("%v", i-1)
		if fileExists(rotatedFileName) {
			return i, nil
		}
	}

	// no suffixed file found - only the base log file exists
	return 1, nil
}

func (writer *RotatingLogFileWriter) rotateLogFiles() error {
	// close the current file, it's about to be renamed
	fileName := writer.logFile.Name()
	err := writer.logFile.Close()
	if err != nil {
		return err
	}

	numOfRotatedFiles, err := writer.getNumberOfRotatedFiles()
	if err != nil {
		return err
	}

	numOfRotationsNeeded := numOfRotatedFiles
	if numOfRotationsNeeded == writer.maxNumberOfLogFiles {
		// already at the file-count limit - the highest suffix is dropped
		// (overwritten) rather than rotated further
		numOfRotationsNeeded--
	}
	for i := numOfRotationsNeeded; i > 0; i-- {
		oldFileName := fileName
		if i > 1 {
			oldFileName = fileName + "." + fmt.Sprintf("%v", i-1)
		}
		newFileName := fileName + "." + fmt.Sprintf("%v", i)
		err := os.Rename(oldFileName, newFileName)
		if err != nil {
			return err
		}
	}

	return nil
}

func fileExists(fileName string) bool {
	if _, err := os.Stat(fileName); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

