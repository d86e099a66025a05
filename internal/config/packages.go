package config

// TrackedPackage is a registry package whose download count is displayed.
type TrackedPackage struct {
	Name        string `yaml:"name" json:"name"`
	DisplayName string `yaml:"display_name" json:"displayName"`
	Homepage    string `yaml:"homepage" json:"homepage"`
}

// NpmPackageURL returns the npmjs.com page for a package name.
func NpmPackageURL(name string) string {
	return "https://www.npmjs.com/package/" + name
}

// DefaultPackages returns the packages tracked when no config file lists any.
func DefaultPackages() []TrackedPackage {
	return []TrackedPackage{
		{
			Name:        "@venkateshmedipudi/react-theme-context",
			DisplayName: "React Theme Context",
			Homepage:    NpmPackageURL("@venkateshmedipudi/react-theme-context"),
		},
		{
			Name:        "@venkateshmedipudi/react-i18n-lite",
			DisplayName: "React i18n Lite",
			Homepage:    NpmPackageURL("@venkateshmedipudi/react-i18n-lite"),
		},
	}
}
