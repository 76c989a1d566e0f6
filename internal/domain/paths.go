package domain

import "fmt"

// InputPath is the object path of the i-th uploaded input of a job
func InputPath(jobID string, i int, ext string) string {
	return fmt.Sprintf("inputs/%s/image_%d.%s", jobID, i, ext)
}

// OutputPath is the object path of a job's generated panel
func OutputPath(jobID string) string {
	return fmt.Sprintf("outputs/%s/panel.png", jobID)
}
