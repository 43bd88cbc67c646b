package logfields

import "go.uber.org/zap"

func PullRequest(val int) zap.Field {
	return zap.Int("github.pull_request", val)
}

func Repository(val string) zap.Field {
	return zap.String("git.repository", val)
}

func RepositoryOwner(val string) zap.Field {
	return zap.String("github.repository_owner", val)
}

func Commit(val string) zap.Field {
	return zap.String("git.commit", val)
}

func Label(val string) zap.Field {
	return zap.String("github.label", val)
}

func Actor(val string) zap.Field {
	return zap.String("github.actor", val)
}

func Installation(val int64) zap.Field {
	return zap.Int64("github.installation_id", val)
}

func MergeMethod(val string) zap.Field {
	return zap.String("github.merge_method", val)
}
