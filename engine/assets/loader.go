package assets

import "github.com/spaghettifunk/sonar/engine/resources"

type Loader interface {
	Load(path string, params interface{}) (*resources.Resource, error) // `interface{}` here allows loaders to take per type parameters
	Unload(*resources.Resource) error
}
