package account

import "context"

// Store はアカウントの永続化を担います。
//
// 実装は書き込み直後の読み取りで結果が見えること、Insert 時に一意制約を原子的に
// 検査することを保証しなければなりません。違反時は *ConstraintViolationError を返します。
type Store interface {
	// FindByUsernameOrEmail は username または email が identifier と一致するアカウントを返します。
	// 見つからない場合は ErrNotFound を返します。
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*Account, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// Insert は ID と CreatedAt を割り当てて保存し、保存後のアカウントを返します。
	Insert(ctx context.Context, acct *Account) (*Account, error)
}
