package storage

import "path"

// pathDir and pathBase split a "path/to/dir/file.json"-shaped provider
// path into its directory and filename, for providers whose native API
// separates folder path and file name (ReadTextFile/WriteTextFile take a
// single combined path, but UploadFile/DownloadFile take them separately).
func pathDir(p string) string {
	return path.Dir(p)
}

func pathBase(p string) string {
	return path.Base(p)
}
