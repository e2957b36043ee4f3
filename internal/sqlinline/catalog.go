package sqlinline

const QGetModifier = `--sql 9c7da49d-4b16-4759-abac-3875aec994cf
select id, name, high_file, high_s3_uri, low_file, low_s3_uri, default_high_weight, default_low_weight
from modifiers
where id = $1;
`

const QOptionLists = `--sql a6efba98-6528-4b38-93ff-464d416b4f87
select name, options
from option_lists
where name = any($1::text[]);
`

const QUpsertModifier = `--sql e616d272-d15a-4396-8f2f-15efa4bf2c65
insert into modifiers (id, name, high_file, high_s3_uri, low_file, low_s3_uri, default_high_weight, default_low_weight)
values ($1, $2, $3, $4, $5, $6, $7, $8)
on conflict (id) do update set
    name = excluded.name,
    high_file = excluded.high_file,
    high_s3_uri = excluded.high_s3_uri,
    low_file = excluded.low_file,
    low_s3_uri = excluded.low_s3_uri,
    default_high_weight = excluded.default_high_weight,
    default_low_weight = excluded.default_low_weight;
`

const QUpsertOptionList = `--sql be368272-0374-4a78-bb05-e8384b78fefc
insert into option_lists (name, options)
values ($1, $2::text[])
on conflict (name) do update set options = excluded.options;
`
