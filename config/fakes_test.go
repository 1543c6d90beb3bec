package config

import "fmt"

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	value, ok := repo.envVars[key]
	if ok {
		return value
	} else {
		return ""
	}
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

type fakePathModifier struct {
	home string
}

func (m fakePathModifier) AbsPath(pth string) (string, error) {
	if len(pth) > 1 && pth[:2] == "~/" {
		return m.home + pth[1:], nil
	}
	return pth, nil
}

func (m fakePathModifier) EscapeGlobPath(path string) string {
	return path
}
