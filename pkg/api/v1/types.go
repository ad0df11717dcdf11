package v1

import metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

const (
	APIVersion = "upkeep.dcas.dev/v1"
	KindConfig = "Config"
)

type ConfigSpec struct {
	// AppID is the package identifier being kept up to date.
	AppID string `json:"appId"`
	// Root is the installation root.
	Root string `json:"root"`
	// Source is a base URL or directory holding the RELEASES
	// file and packages.
	Source          string `json:"source"`
	AllowPrerelease bool   `json:"allowPrerelease,omitempty"`

	LockTimeout metav1.Duration `json:"lockTimeout,omitempty"`
	HookTimeout metav1.Duration `json:"hookTimeout,omitempty"`
	Retries     *int            `json:"retries,omitempty"`

	MaxPatchRatio    float64 `json:"maxPatchRatio,omitempty"`
	PatchCompression string  `json:"patchCompression,omitempty"`
	// KeepVersions is the number of full packages kept in the
	// local cache.
	KeepVersions int `json:"keepVersions,omitempty"`
}

type Config struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec ConfigSpec `json:"spec"`
}
