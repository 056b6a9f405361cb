package granule

import (
	"fmt"
	"path/filepath"
	"time"
)

// DataPath builds the structured location for a downloaded product file:
// dataDir/mission/collection/productType/baseline/yyyy/mm/dd/filename.
func DataPath(dataDir, mission, collection, productType, baseline string, t time.Time, filename string) string {
	t = t.UTC()
	return filepath.Join(
		dataDir, mission, collection, productType, baseline,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		filename,
	)
}

// RegistryPath builds the directory holding registry tracking files for
// one kind: registryDir/kind/mission/collection/productType/baseline.
func RegistryPath(registryDir, kind, mission, collection, productType, baseline string) string {
	return filepath.Join(registryDir, kind, mission, collection, productType, baseline)
}

// URLToLocalPath maps a product URL to its expected local download path.
// Product type and baseline come from the URL itself; the second return
// is false when the sensing time cannot be extracted.
func URLToLocalPath(url, dataDir, mission, collection string) (string, bool) {
	info := Extract(url)
	if info.SensingTime.IsZero() {
		return "", false
	}
	return DataPath(
		dataDir, mission, collection,
		info.ProductType, info.Baseline,
		info.SensingTime, info.Filename,
	), true
}
